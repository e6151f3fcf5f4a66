// Package tablename maps exposition metric names to storage table names.
//
// Derive lower-cases the metric name, strips underscores and colons, and wraps
// the result as Prefix + normalized + Suffix. Distinct metric names can
// normalise to the same table (ceph_osd_up and ceph:osdup, for example);
// Registry detects that within a cycle and fails with ErrCollision instead of
// letting one metric overwrite the other's table.
package tablename
