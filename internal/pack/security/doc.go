// Package security provides the permission policy engine for Tailor Packs.
//
// A pack declares the capabilities it wants in its manifest. The policy
// engine turns that request into a granted PermissionSet by intersecting it
// with the platform ceiling: a pack can never hold a capability the platform
// withholds, and its execution-time budget is clamped to the platform
// maximum. Grants are deny-by-default; the only capability enabled without
// an explicit request is user-interface access.
//
// The package also carries the resource limits (instruction budgets, file
// operation rates) that the sandbox enforces at runtime.
package security
