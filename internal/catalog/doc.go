// Package catalog resolves job identities into source URLs, extraction rules
// and artifact names, and enumerates the top-level jobs of a harvest plan.
package catalog
