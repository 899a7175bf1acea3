package transport

import "fmt"

// pickFirst returns the first entry of preferred that also appears in
// offered (the remote KEXINIT name-list), implementing the client-drives
// negotiation order used throughout /
func pickFirst(preferred, offered []string) (string, error) {
	offeredSet := make(map[string]bool, len(offered))
	for _, o := range offered {
		offeredSet[o] = true
	}
	for _, p := range preferred {
		if offeredSet[p] {
			return p, nil
		}
	}
	return "", fmt.Errorf("transport: no algorithm in common (offered %v)", offered)
}
