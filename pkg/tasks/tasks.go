// Package tasks defines the structure for tasks that are sent to Kafka.
package tasks

// DocumentProcessingTask asks the ingestion pipeline to extract, chunk, embed and index
// one document. ObjectName is set for uploaded files and submitted text; SourceURL for
// youtube and web sources.
type DocumentProcessingTask struct {
	DocumentID uint   `json:"document_id"`
	UserID     uint   `json:"user_id"`
	SourceType string `json:"source_type"`
	ObjectName string `json:"object_name,omitempty"`
	SourceURL  string `json:"source_url,omitempty"`
	Title      string `json:"title,omitempty"`
}
