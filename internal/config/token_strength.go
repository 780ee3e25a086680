package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// tokenGuessWords are tried first by anyone guessing a management token for
// this daemon, so tokens built from them score as dictionary words.
var tokenGuessWords = []string{"vpncore", "vpn", "admin", "token", "wireguard", "relay"}

// IsWeakToken reports whether the management API token is easy to guess.
// An empty token disables auth and is not reported as weak.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return TokenScore(token) < weakTokenScoreThreshold
}

// TokenScore returns the zxcvbn score, 0 to 4, of a management token.
func TokenScore(token string) int {
	return zxcvbn.PasswordStrength(token, tokenGuessWords).Score
}
