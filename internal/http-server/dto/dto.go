package dto

// UploadPath holds the URL parameters of an image upload. Both end up in
// Redis key names and file paths, so glob and path characters and the
// relative directory names are refused.
type UploadPath struct {
	Version string `validate:"required,max=64,excludesall=:*?[]/\\"`
	Camera  string `validate:"required,max=128,ne=.,ne=..,excludesall=:*?[]/\\"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status        string `json:"status"`
	SchemaVersion string `json:"schema_version,omitempty"`
}

type CamerasResponse struct {
	Cameras []string `json:"cameras"`
}
