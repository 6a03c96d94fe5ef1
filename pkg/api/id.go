package api

import (
	"crypto/rand"
	"math/big"
	"regexp"
)

const (
	idLength = 24
	charset  = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

	toolIDPrefix      = "tool_"
	agentIDPrefix     = "agent_"
	executionIDPrefix = "exec_"
)

var (
	toolIDPattern      = regexp.MustCompile(`^tool_[a-zA-Z0-9]{24}$`)
	agentIDPattern     = regexp.MustCompile(`^agent_[a-zA-Z0-9]{24}$`)
	executionIDPattern = regexp.MustCompile(`^exec_[a-zA-Z0-9]{24}$`)
)

// NewToolID generates a tool ID with the "tool_" prefix followed by
// 24 cryptographically random alphanumeric characters.
func NewToolID() string {
	return toolIDPrefix + randomAlphanumeric(idLength)
}

// NewAgentID generates an agent ID with the "agent_" prefix.
func NewAgentID() string {
	return agentIDPrefix + randomAlphanumeric(idLength)
}

// NewExecutionID generates an execution ID with the "exec_" prefix.
func NewExecutionID() string {
	return executionIDPrefix + randomAlphanumeric(idLength)
}

// ValidateToolID checks whether the given string is a valid tool ID.
func ValidateToolID(id string) bool {
	return toolIDPattern.MatchString(id)
}

// ValidateAgentID checks whether the given string is a valid agent ID.
func ValidateAgentID(id string) bool {
	return agentIDPattern.MatchString(id)
}

// ValidateExecutionID checks whether the given string is a valid execution ID.
func ValidateExecutionID(id string) bool {
	return executionIDPattern.MatchString(id)
}

func randomAlphanumeric(n int) string {
	max := big.NewInt(int64(len(charset)))
	b := make([]byte, n)
	for i := range b {
		idx, err := rand.Int(rand.Reader, max)
		if err != nil {
			panic("crypto/rand failed: " + err.Error())
		}
		b[i] = charset[idx.Int64()]
	}
	return string(b)
}
