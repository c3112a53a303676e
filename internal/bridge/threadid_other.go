//go:build !linux

package bridge

// Without a portable thread id every caller shares one identity. Scopes still
// nest correctly; the runtime simply sees a single attached thread.
func currentThreadID() ThreadID { return 0 }
