package utils

// ShortToken abbreviates a CLOB token id for log lines.
func ShortToken(id string) string {
	if len(id) <= 14 {
		return id
	}
	return id[:14] + ".."
}

// ShortAddress abbreviates a 0x address for log lines.
func ShortAddress(addr string) string {
	if len(addr) <= 10 {
		return addr
	}
	return addr[:6] + ".." + addr[len(addr)-4:]
}
