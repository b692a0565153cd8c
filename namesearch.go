package zipcase

// NameSearchData tracks a party-name search from submission through
// the worker run that expands it into case numbers. Entries live 24h.
type NameSearchData struct {
	SearchID       string   `json:"searchId"`
	OriginalName   string   `json:"originalName"`
	NormalizedName string   `json:"normalizedName"`
	DateOfBirth    string   `json:"dateOfBirth,omitempty"`
	SoundsLike     bool     `json:"soundsLike"`
	CriminalOnly   bool     `json:"criminalOnly"`
	Cases          []string `json:"cases"`
	Status         Status   `json:"status"`
	Message        string   `json:"message,omitempty"`
}
