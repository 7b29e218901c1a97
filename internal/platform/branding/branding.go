// Package branding centralizes product naming for user-facing surfaces.
package branding

// AppName is the product name shown to users and relying parties.
const AppName = "Murmur"
