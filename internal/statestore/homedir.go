package statestore

import (
	"fmt"
	"os/user"
)

// homeDirFor resolves the home directory for a system account name, used
// by StorageHomeDir. This deliberately goes through os/user rather than
// $HOME, since the agent runs privileged and must resolve the home
// directory of the user named in UserSet, not its own.
func homeDirFor(username string) (string, error) {
	u, err := user.Lookup(username)
	if err != nil {
		return "", fmt.Errorf("statestore: lookup user %q: %w", username, err)
	}
	if u.HomeDir == "" {
		return "", fmt.Errorf("statestore: user %q has no home directory", username)
	}
	return u.HomeDir, nil
}
