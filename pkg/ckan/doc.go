// Package ckan is a small client for the CKAN action API. It supplies the
// read-only snapshots, license register and organization data the dispatch
// pipeline needs, and writes the CKAN-to-CKAN feedback fields back with
// package_patch.
package ckan
