package batch

// Config holds the Batch account and pool settings the backend operates
// with. Account fields may be replaced at runtime by a successful
// provisioning run.
type Config struct {
	// AccountName, AccountKey and AccountURL identify the Batch account.
	AccountName string
	AccountKey  string
	AccountURL  string

	// PoolOverrideID pins every job to one pre-existing pool instead of a
	// dedicated per-task auto-pool. Intended for debugging only: it trades
	// task isolation for node startup latency.
	PoolOverrideID string

	// Node counts for created pools.
	DedicatedNodes   int
	LowPriorityNodes int

	// FileshareName, when set, is mounted on pool nodes and bound into
	// containers as the shared-global volume.
	FileshareName string

	// TmpPrefix is the blob name prefix for staged inline input content.
	TmpPrefix string

	// Private registry for executor images.
	RegistryURL      string
	RegistryUser     string
	RegistryPassword string
}
