package user

// UserResponse defines the response structure for user information.
type UserResponse struct {
	ID       uint       `json:"id"`
	Username string     `json:"username"`
	Role     string     `json:"role"`
	Tokens   *TokenInfo `json:"tokens,omitempty"`
	Token    string     `json:"token,omitempty"`
}

// TokenInfo summarizes the user's credit balance.
type TokenInfo struct {
	Total           int     `json:"total"`
	Used            int     `json:"used"`
	Remaining       int     `json:"remaining"`
	UsagePercentage float64 `json:"usagePercentage"`
}
