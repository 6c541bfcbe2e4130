package types

// Site is a solar installation tracked by the service.
type Site struct {
	ID       string       `json:"id"`
	Settings SiteSettings `json:"settings"`
	Version  int          `json:"version"`
}

// User represents an authenticated caller of the API.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
	Admin bool   `json:"-"`
}
