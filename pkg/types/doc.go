// Package types defines the metadata entities, the Task contract, the run
// configuration and the standard errors shared by the mender repair engine.
//
// The packages under internal/ depend on these types; nothing here depends
// on a database driver.
package types
