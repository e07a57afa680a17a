package config

import zxcvbn "github.com/ccojocar/zxcvbn-go"

const weakTokenScoreThreshold = 3

// tokenDictionary holds words an admin is likely to build a token from.
var tokenDictionary = []string{"tagscope", "tagger", "admin", "photon", "coincidence"}

// IsWeakToken reports whether token scores below 3 on zxcvbn, counting the
// product vocabulary as known words. The empty token disables auth and is
// not weak.
func IsWeakToken(token string) bool {
	if token == "" {
		return false
	}
	return zxcvbn.PasswordStrength(token, tokenDictionary).Score < weakTokenScoreThreshold
}
