package ingest

// LeftJoin attaches to every item the header sharing its access key. Items
// without a match are kept with a nil header, so len(result) == len(items).
// When several headers share a key the first one wins.
func LeftJoin(items []InvoiceItem, headers []InvoiceHeader) []MergedRecord {
	byKey := make(map[string]*InvoiceHeader, len(headers))
	for i := range headers {
		k := headers[i].AccessKey
		if _, seen := byKey[k]; seen {
			continue
		}
		byKey[k] = &headers[i]
	}
	out := make([]MergedRecord, len(items))
	for i, it := range items {
		out[i] = MergedRecord{Item: it, Header: byKey[it.AccessKey]}
	}
	return out
}

// MergedColumns is the column order of a merged record: item columns
// followed by header columns without the repeated join key.
func MergedColumns() []string {
	cols := make([]string, 0, len(ItemColumns)+len(HeaderColumns)-1)
	cols = append(cols, ItemColumns...)
	return append(cols, HeaderColumns[1:]...)
}

// Values returns the record's cells in MergedColumns order. Missing header
// fields are empty strings.
func (m MergedRecord) Values() []string {
	return append(m.Item.values(), m.Header.values()...)
}
