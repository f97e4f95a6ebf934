package parser

import (
	"archive/zip"
	"encoding/xml"
	"io"
	"strings"

	"github.com/dimchansky/utfbom"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/text/encoding/charmap"

	"github.com/CMSgov/faers-app/faers/models"
)

type xmlDrug struct {
	Sequence         string  `xml:"drugsequencenumber"`
	Characterization string  `xml:"drugcharacterization"`
	MedicinalProduct string  `xml:"medicinalproduct"`
	StartDate        string  `xml:"drugstartdate"`
	Indication       *string `xml:"drugindication>indicationmeddrapt"`
}

type xmlSafetyReport struct {
	SafetyReportID string `xml:"safetyreportid"`
	Nullification  string `xml:"safetyreportnullification"`
	ReceiptDate    string `xml:"receiptdate"`
	OccurCountry   string `xml:"occurcountry"`
	CaseID         string `xml:"case>caseid"`
	PrimarySource  *struct {
		ReporterCountry string `xml:"reportercountry"`
		Qualification   string `xml:"qualification"`
	} `xml:"primarysource"`
	Patient *struct {
		Sex          string    `xml:"patientsex"`
		OnsetAge     string    `xml:"patientonsetage"`
		OnsetAgeUnit string    `xml:"patientonsetageunit"`
		Drugs        []xmlDrug `xml:"drug"`
		Reactions    []struct {
			PT string `xml:"reactionmeddrapt"`
		} `xml:"reaction"`
	} `xml:"patient"`
	Summary *struct {
		Result string `xml:"result"`
	} `xml:"summary"`
}

// xmlReports decodes one <safetyreport> element at a time.
type xmlReports struct {
	logger    logrus.FieldLogger
	zr        *zip.ReadCloser
	rc        io.ReadCloser
	decoder   *xml.Decoder
	nullified models.IDSet
	current   *models.Report
	skipped   int
	err       error
}

func newXMLReports(logger logrus.FieldLogger, zr *zip.ReadCloser, f *zip.File) (*xmlReports, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, errors.Wrapf(err, "could not open archive member %s", f.Name)
	}
	decoder := xml.NewDecoder(utfbom.SkipOnly(rc))
	decoder.CharsetReader = func(label string, input io.Reader) (io.Reader, error) {
		switch strings.ToLower(label) {
		case "iso-8859-1", "latin1", "windows-1252", "cp1252":
			return charmap.Windows1252.NewDecoder().Reader(input), nil
		}
		return nil, errors.Errorf("unsupported XML charset %s", label)
	}

	return &xmlReports{
		logger:    logger,
		zr:        zr,
		rc:        rc,
		decoder:   decoder,
		nullified: models.NewIDSet(),
	}, nil
}

func (r *xmlReports) Next() bool {
	if r.err != nil {
		return false
	}
	for {
		tok, err := r.decoder.Token()
		if err == io.EOF {
			if r.skipped > 0 {
				r.logger.Warnf("Skipped %d safety reports without identifiers", r.skipped)
			}
			return false
		}
		if err != nil {
			r.err = errors.Wrap(err, "could not decode XML")
			return false
		}
		start, ok := tok.(xml.StartElement)
		if !ok || start.Name.Local != "safetyreport" {
			continue
		}

		var sr xmlSafetyReport
		if err := r.decoder.DecodeElement(&sr, &start); err != nil {
			r.err = errors.Wrap(err, "could not decode safetyreport")
			return false
		}
		recordID := strings.TrimSpace(sr.SafetyReportID)
		caseID := strings.TrimSpace(sr.CaseID)
		if recordID == "" || caseID == "" {
			r.skipped++
			continue
		}
		if strings.TrimSpace(sr.Nullification) == "1" {
			r.nullified.Add(caseID)
			continue
		}

		r.current = sr.toReport(recordID, caseID)
		return true
	}
}

func (sr *xmlSafetyReport) toReport(recordID, caseID string) *models.Report {
	report := models.NewReport(recordID, caseID)

	if sr.Patient != nil {
		demo := models.Record{
			models.ReceiptColumn: sr.ReceiptDate,
			"sex":                sr.Patient.Sex,
			"age":                sr.Patient.OnsetAge,
			"age_cod":            sr.Patient.OnsetAgeUnit,
			"occr_country":       sr.OccurCountry,
		}
		if sr.PrimarySource != nil {
			demo["reporter_country"] = sr.PrimarySource.ReporterCountry
		}
		report.Add(models.TableDemo, demo)
	}

	if sr.PrimarySource != nil {
		report.Add(models.TableRpsr, models.Record{"rpsr_cod": sr.PrimarySource.Qualification})
	}

	if sr.Patient != nil {
		for _, d := range sr.Patient.Drugs {
			report.Add(models.TableDrug, models.Record{
				"drug_seq":            d.Sequence,
				"role_cod":            d.Characterization,
				models.DrugNameColumn: d.MedicinalProduct,
			})
			if d.Indication != nil {
				report.Add(models.TableIndi, models.Record{
					"indi_drug_seq": d.Sequence,
					"indi_pt":       *d.Indication,
				})
			}
			report.Add(models.TableTher, models.Record{
				"dsg_drug_seq": d.Sequence,
				"start_dt":     d.StartDate,
			})
		}
		for _, reaction := range sr.Patient.Reactions {
			report.Add(models.TableReac, models.Record{"pt": reaction.PT})
		}
	}

	if sr.Summary != nil {
		report.Add(models.TableOutc, models.Record{"outc_cod": sr.Summary.Result})
	}
	return report
}

func (r *xmlReports) Report() *models.Report { return r.current }

func (r *xmlReports) Err() error { return r.err }

func (r *xmlReports) Nullified() models.IDSet { return r.nullified }

func (r *xmlReports) Close() error {
	r.rc.Close()
	return r.zr.Close()
}
