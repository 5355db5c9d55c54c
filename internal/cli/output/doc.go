// Package output renders CLI results.
//
// Results are printed as a table (the default), JSON or YAML. Tables are
// derived from struct fields: the json tag names the column, `table:"-"`
// hides a field and `table:"wide"` shows it only with --wide. Long
// operations report progress on stderr with a Spinner or a ProgressBar.
package output
