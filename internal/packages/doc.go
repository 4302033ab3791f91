// Package packages is the package registry consumed by the group engines.
//
// A package is a versioned software artifact. OTA Core only tracks its
// identity, version string and opaque metadata; delivering the artifact to
// devices happens elsewhere. The group engines use the registry to check that
// every package they assign to a group actually exists.
package packages
