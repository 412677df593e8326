// Package dbconfig holds the tunables of the write path and memtable
// lifecycle: window size, buffer thresholds, and the recovery flags from
// §4.G's Recover algorithm, in the shape of a plain YAML-tagged struct
// with a Default constructor.
package dbconfig

// Options configures an Open of the database.
type Options struct {
	// CreateIfMissing creates DataDir if it does not already hold a database.
	CreateIfMissing bool `yaml:"create_if_missing"`
	// ErrorIfExists fails Open if DataDir already holds a database.
	ErrorIfExists bool `yaml:"error_if_exists"`
	// ParanoidChecks aborts WAL replay on the first corrupt record instead
	// of dropping it and continuing (§4.C, §7).
	ParanoidChecks bool `yaml:"paranoid_checks"`
	// ReuseLogs reopens the last WAL in append mode and reuses it as the
	// active log when recovery reaches it cleanly (§4.G step 6).
	ReuseLogs bool `yaml:"reuse_logs"`

	// MemtableSeqWindow is W, the number of sequence numbers a single
	// memtable owns (§3). The source calls this MEMTABLE_SEQ_SIZE.
	MemtableSeqWindow uint64 `yaml:"memtable_seq_window"`
	// WriteBufferSize bounds the scratch memtable built during WAL replay
	// (§4.G step 6); exceeding it triggers an intermediate flush.
	WriteBufferSize int64 `yaml:"write_buffer_size"`

	// MaxLevels caps the number of levels a Version tracks.
	MaxLevels int `yaml:"max_levels"`
	// MaxMemCompactLevel is the deepest level a memtable flush may target
	// directly, mirroring the source's kMaxMemCompactLevel (§4.F step 5).
	MaxMemCompactLevel int `yaml:"max_mem_compact_level"`

	// BloomFilterFPRate is the target false-positive rate for each sorted
	// table's bloom filter (table.Writer, DOMAIN STACK).
	BloomFilterFPRate float64 `yaml:"bloom_filter_fp_rate"`
	// BlockSize is loaded from configuration but not read anywhere: a sorted
	// table is written as one data section and is not split into blocks.
	BlockSize int `yaml:"block_size"`

	// DataDir is the on-disk directory holding CURRENT, MANIFEST-*, WAL and
	// table files (§6).
	DataDir string `yaml:"data_dir"`
}

// Default returns conservative defaults for local development.
func Default() Options {
	return Options{
		CreateIfMissing:    true,
		ErrorIfExists:      false,
		ParanoidChecks:     false,
		ReuseLogs:          true,
		MemtableSeqWindow:  4096,
		WriteBufferSize:    4 << 20,
		MaxLevels:          7,
		MaxMemCompactLevel: 2,
		BloomFilterFPRate:  0.01,
		BlockSize:          32 << 10,
		DataDir:            "./data",
	}
}
