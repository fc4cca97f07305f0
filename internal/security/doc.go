// Package security derives the posture report an engine exposes through
// SecurityReport and identityctl's report command. It only reads settings;
// it never changes them.
package security
