package constants

// Load history statuses
const (
	LoadRunning = "RUNNING"
	LoadSuccess = "SUCCESS"
	LoadFailed  = "FAILED"
)

// Load history run kinds
const (
	LoadTypeDelta   = "DELTA"
	LoadTypePartial = "PARTIAL"
)

// Run modes accepted on the command line
const (
	ModeDelta   = "delta"
	ModePartial = "partial"
)

const HistoryTable = "_faers_load_history"

// Staging directories are created as <StagingDirPrefix><period>_*
const StagingDirPrefix = "faers_"

const DefaultChunkSize = 500000

const BackendPostgres = "postgresql"

// This is set during compilation.
var Version = "latest"
