package state

// Keyspace. Account keys are only written by the worker that owns the
// account's partition.
const (
	keyEODBalance      = "account:%s:balance:eod"
	keyEODTimestamp    = "account:%s:balance:eod_timestamp"
	keyTransactionSum  = "account:%s:transactions:sum"
	keyFacilityLimit   = "account:%s:facility:limit"
	keySyncCounter     = "account:%s:balance:sync"
	keyEODDedup        = "message:%s:balance:eod_timestamp"
	keyTransactionSeen = "message:%s:transaction"
)
