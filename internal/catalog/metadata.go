package catalog

import (
	"github.com/parquet-go/parquet-go"
)

// FieldSummary describes one top-level schema field for the UI.
type FieldSummary struct {
	Name     string `json:"name"`
	Type     string `json:"type"`
	Optional bool   `json:"optional"`
}

// MetadataSummary is the file-level view shown next to a registered
// source: how big the file is, how much of it is data versus footer,
// and what pruning aids it carries.
type MetadataSummary struct {
	FileSize          int64          `json:"file_size"`
	FooterSize        int64          `json:"footer_size"`
	CompressedSize    int64          `json:"compressed_size"`
	UncompressedSize  int64          `json:"uncompressed_size"`
	CompressionRatio  float64        `json:"compression_ratio"`
	RowGroupCount     int            `json:"row_group_count"`
	RowCount          int64          `json:"row_count"`
	ColumnCount       int            `json:"column_count"`
	Fields            []FieldSummary `json:"fields"`
	HasRowGroupStats  bool           `json:"has_row_group_stats"`
	HasBloomFilter    bool           `json:"has_bloom_filter"`
}

func summarize(file *parquet.File, fileSize, footerSize int64) MetadataSummary {
	meta := file.Metadata()

	var compressed, uncompressed int64
	for _, rowGroup := range meta.RowGroups {
		uncompressed += rowGroup.TotalByteSize
		for _, column := range rowGroup.Columns {
			compressed += column.MetaData.TotalCompressedSize
		}
	}
	ratio := 0.0
	if uncompressed > 0 {
		ratio = float64(compressed) / float64(uncompressed)
	}

	schemaFields := file.Schema().Fields()
	fields := make([]FieldSummary, 0, len(schemaFields))
	for _, field := range schemaFields {
		fields = append(fields, FieldSummary{
			Name:     field.Name(),
			Type:     field.Type().String(),
			Optional: field.Optional(),
		})
	}

	hasStats := false
	hasBloom := false
	if len(meta.RowGroups) > 0 && len(meta.RowGroups[0].Columns) > 0 {
		first := meta.RowGroups[0].Columns[0].MetaData
		hasStats = len(first.Statistics.MinValue) > 0 || len(first.Statistics.MaxValue) > 0
		hasBloom = first.BloomFilterOffset > 0
	}

	return MetadataSummary{
		FileSize:         fileSize,
		FooterSize:       footerSize,
		CompressedSize:   compressed,
		UncompressedSize: uncompressed,
		CompressionRatio: ratio,
		RowGroupCount:    len(meta.RowGroups),
		RowCount:         meta.NumRows,
		ColumnCount:      len(fields),
		Fields:           fields,
		HasRowGroupStats: hasStats,
		HasBloomFilter:   hasBloom,
	}
}
