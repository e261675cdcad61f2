// Package demography builds validated, immutable demographic histories:
// populations with present-day sizes and migration rates, plus a time-ordered
// list of size changes, migration-rate changes and lineage merges that a
// coalescent simulator consumes going back in time.
//
// Times are generations before present. At equal times, size and migration
// changes apply before merges, so a lineage's parameters are settled right
// before it is merged away.
package demography
