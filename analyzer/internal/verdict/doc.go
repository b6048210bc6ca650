// Package verdict turns fit outcomes into discrete labels through ordered
// threshold rules, and reduces labelled sweeps to a single correction.
//
// A rule pairs a label with a condition such as
//
//	t2 < dead
//	abs(shift) > miscalibrated
//	rss.sigmoid < rss.exponential && margin > 0.001
//
// Operands are numbers, names or abs(name). Names resolve against the
// classifier's thresholds first, then against the observation's values. A
// rule whose operands cannot be resolved simply does not match. Rules are
// tried in declaration order and the first match wins, so the most severe
// condition should be declared first.
package verdict
