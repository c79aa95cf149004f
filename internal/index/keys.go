package index

import "fmt"

// Index keys are scoped per table and generation:
//
//	idx:<table>:gen                active generation pointer
//	idx:<table>:g<N>:term:<term>   JSON posting list
//	idx:<table>:g<N>:doc:<id>      JSON document payload
//	idx:<table>:g<N>:doclens       JSON map of docID to token count
//	idx:<table>:g<N>:meta          JSON Stats
//
// A build writes the next generation completely before the pointer is set,
// so readers resolve either the previous generation or the new one, never a
// mixture.
const keyPrefix = "idx"

func genKey(table string) string {
	return fmt.Sprintf("%s:%s:gen", keyPrefix, table)
}

func termKey(table string, gen int64, term string) string {
	return fmt.Sprintf("%s:%s:g%d:term:%s", keyPrefix, table, gen, term)
}

func docKey(table string, gen int64, docID string) string {
	return fmt.Sprintf("%s:%s:g%d:doc:%s", keyPrefix, table, gen, docID)
}

func docLensKey(table string, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d:doclens", keyPrefix, table, gen)
}

func metaKey(table string, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d:meta", keyPrefix, table, gen)
}

func genPattern(table string, gen int64) string {
	return fmt.Sprintf("%s:%s:g%d:*", keyPrefix, table, gen)
}

func tablePattern(table string) string {
	return fmt.Sprintf("%s:%s:*", keyPrefix, table)
}
