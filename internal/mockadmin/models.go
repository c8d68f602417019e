package mockadmin

import "time"

// Pixel is a web pixel resource registered for a shop. Once created it is never
// updated or removed through the API, matching the remote platform.
type Pixel struct {
	ID        string    `json:"id"`
	Shop      string    `json:"shop"`
	Settings  string    `json:"settings"`
	CreatedAt time.Time `json:"created_at"`
}

// UserError mirrors the GraphQL user error shape.
type UserError struct {
	Field   []string `json:"field"`
	Message string   `json:"message"`
}
