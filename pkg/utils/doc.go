// Package utils provides utility functions shared across the simple-2fa
// engines.
//
// This package contains pure, zero-dependency helpers for secure random code
// generation, hashing, constant-time comparison, and masking of delivery
// destinations. All functions are stateless and thread-safe.
//
// # Random Generation
//
//	// 6-digit numeric code for email/SMS delivery
//	code, err := utils.RandomDigits(6)
//
//	// 12-character recovery code
//	code, err := utils.RandomAlphanumeric(12)
//
// Randomness comes from crypto/rand; the alphanumeric alphabet omits 0, O, 1
// and I so codes survive being read aloud or retyped.
//
// # Hashing and Comparison
//
//	hash := utils.HashCode(code)
//	match := utils.ConstantTimeEqual(utils.HashCode(submitted), hash)
//
// ConstantTimeEqual must be used whenever a submitted value is checked
// against stored material, so the comparison leaks no timing signal.
//
// # Masking
//
//	utils.MaskEmail("someone@example.com") // "s*****e@example.com"
//	utils.MaskPhone("+15005550006")        // "**********06"
//
// Masked forms are for display only and are never used as lookup keys.
package utils
