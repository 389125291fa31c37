package models

// UnknownValue is used for metadata the platform did not render
const UnknownValue = "Unknown"

// SubmissionRecord is what the platform reported when it accepted an upload.
// Title is the only reliable key for finding the submission again.
type SubmissionRecord struct {
	Title          string `json:"title"`
	GeneratedTitle string `json:"generated_title"`
	PageCount      string `json:"page_count"`
	WordCount      string `json:"word_count"`
	CharacterCount string `json:"character_count"`
	FileSize       string `json:"file_size"`
	RemoteID       string `json:"remote_id"`
	RemoteDate     string `json:"remote_date"`
}

// NewSubmissionRecord returns a record with every metadata field set to UnknownValue
func NewSubmissionRecord(generatedTitle string) *SubmissionRecord {
	return &SubmissionRecord{
		Title:          generatedTitle,
		GeneratedTitle: generatedTitle,
		PageCount:      UnknownValue,
		WordCount:      UnknownValue,
		CharacterCount: UnknownValue,
		FileSize:       UnknownValue,
		RemoteID:       UnknownValue,
		RemoteDate:     UnknownValue,
	}
}

// ReportArtifacts are the locally captured report files for one submission.
// Result delivery owns the files once returned.
type ReportArtifacts struct {
	SimilarityPath      string `json:"similarity_path,omitempty"`
	AIPath              string `json:"ai_path,omitempty"`
	SimilarityAvailable bool   `json:"similarity_available"`
	AIAvailable         bool   `json:"ai_available"`
	AIUnavailableReason string `json:"ai_unavailable_reason,omitempty"`
	SimilarityScore     string `json:"similarity_score,omitempty"`
	AIScore             string `json:"ai_score,omitempty"`
}

// Paths returns the artifact files that exist
func (a *ReportArtifacts) Paths() []string {
	var paths []string
	if a.SimilarityAvailable && a.SimilarityPath != "" {
		paths = append(paths, a.SimilarityPath)
	}
	if a.AIAvailable && a.AIPath != "" {
		paths = append(paths, a.AIPath)
	}
	return paths
}

// Empty reports whether nothing was captured
func (a *ReportArtifacts) Empty() bool {
	return len(a.Paths()) == 0
}
