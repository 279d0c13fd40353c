package dataset

// PartitionInfo describes one source partition of a dataset.
type PartitionInfo struct {
	Path string `json:"path"`
	Rows int    `json:"rows"`
}

// Dataset is the immutable canonical table. It is safe for concurrent
// readers; nothing mutates it after construction.
type Dataset struct {
	records     []Record
	columns     []Column
	partitions  []PartitionInfo
	fingerprint uint64
}

// New wraps records into a Dataset. The caller hands over ownership of the
// slices and must not modify them afterwards.
func New(records []Record, columns []Column, partitions []PartitionInfo, fingerprint uint64) *Dataset {
	return &Dataset{
		records:     records,
		columns:     columns,
		partitions:  partitions,
		fingerprint: fingerprint,
	}
}

// Len returns the number of rows.
func (d *Dataset) Len() int { return len(d.records) }

// At returns row i. The returned record must be treated as read-only.
func (d *Dataset) At(i int) *Record { return &d.records[i] }

// Fingerprint identifies the content of the dataset. Caches key derived
// results on it.
func (d *Dataset) Fingerprint() uint64 { return d.fingerprint }

// Columns returns the source columns that were present, in header order of
// the first partition.
func (d *Dataset) Columns() []Column {
	return append([]Column(nil), d.columns...)
}

// Partitions returns the per-partition row counts in load order.
func (d *Dataset) Partitions() []PartitionInfo {
	return append([]PartitionInfo(nil), d.partitions...)
}
