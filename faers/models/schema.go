package models

type ColumnType int

const (
	Text ColumnType = iota
	Integer
	Float
)

func (t ColumnType) SQL() string {
	switch t {
	case Integer:
		return "BIGINT"
	case Float:
		return "DOUBLE PRECISION"
	default:
		return "TEXT"
	}
}

type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
}

// Table describes one destination table and the column order used in staging.
type Table struct {
	Name    string
	Columns []Column
}

func (t Table) ColumnNames() []string {
	names := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		names[i] = c.Name
	}
	return names
}

func (t Table) Column(name string) (Column, bool) {
	for _, c := range t.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

const (
	RecordIDColumn = "primaryid"
	CaseIDColumn   = "caseid"
	ReceiptColumn  = "fda_dt"
	DrugNameColumn = "drugname"
)

const (
	TableDemo = "demo"
	TableDrug = "drug"
	TableReac = "reac"
	TableOutc = "outc"
	TableRpsr = "rpsr"
	TableTher = "ther"
	TableIndi = "indi"
)

// LoadOrder is the order tables are bulk loaded in. Demographics go first.
var LoadOrder = []string{TableDemo, TableDrug, TableReac, TableOutc, TableRpsr, TableTher, TableIndi}

// DeleteOrder is the order rows are removed in. Demographics go last since
// the other tables are resolved through them.
var DeleteOrder = []string{TableTher, TableRpsr, TableReac, TableOutc, TableIndi, TableDrug, TableDemo}

func textColumns(names ...string) []Column {
	cols := make([]Column, len(names))
	for i, n := range names {
		cols[i] = Column{Name: n, Type: Text, Nullable: true}
	}
	return cols
}

func withTypes(cols []Column, types map[string]ColumnType) []Column {
	for i := range cols {
		if t, ok := types[cols[i].Name]; ok {
			cols[i].Type = t
		}
	}
	return cols
}

var tables = []Table{
	{Name: TableDemo, Columns: withTypes(textColumns(
		"primaryid", "caseid", "caseversion", "i_f_code", "event_dt", "mfr_dt",
		"init_fda_dt", "fda_dt", "rept_cod", "auth_num", "mfr_num", "mfr_sndr",
		"lit_ref", "age", "age_cod", "age_grp", "sex", "e_sub", "wt", "wt_cod",
		"rept_dt", "to_mfr", "occp_cod", "reporter_country", "occr_country",
	), map[string]ColumnType{"age": Float, "wt": Float})},
	{Name: TableDrug, Columns: textColumns(
		"primaryid", "caseid", "drug_seq", "role_cod", "drugname", "prod_ai",
		"val_vbm", "route", "dose_vbm", "cum_dose_chr", "cum_dose_unit", "dechal",
		"rechal", "lot_num", "exp_dt", "nda_num", "dose_amt", "dose_unit",
		"dose_form", "dose_freq",
	)},
	{Name: TableReac, Columns: textColumns("primaryid", "caseid", "pt", "drug_rec_act")},
	{Name: TableOutc, Columns: textColumns("primaryid", "caseid", "outc_cod")},
	{Name: TableRpsr, Columns: textColumns("primaryid", "caseid", "rpsr_cod")},
	{Name: TableTher, Columns: textColumns(
		"primaryid", "caseid", "dsg_drug_seq", "start_dt", "end_dt", "dur", "dur_cod",
	)},
	{Name: TableIndi, Columns: textColumns("primaryid", "caseid", "indi_drug_seq", "indi_pt")},
}

// Tables returns the FAERS table descriptions in load order.
func Tables() []Table {
	out := make([]Table, len(tables))
	copy(out, tables)
	return out
}

func TableByName(name string) (Table, bool) {
	for _, t := range tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}
