package mcp

// Protocol versions supported by this implementation, newest first.
var supportedVersions = []string{
	"2025-03-26",
	"2024-11-05",
}

// LatestVersion returns the newest protocol version this implementation speaks.
func LatestVersion() string {
	return supportedVersions[0]
}

// NegotiateVersion picks the protocol version for a session given the
// client's requested version. A requested version we support is echoed back;
// anything else negotiates down to the latest version we speak, per the MCP
// version negotiation rules.
func NegotiateVersion(requested string) string {
	for _, v := range supportedVersions {
		if v == requested {
			return v
		}
	}
	return LatestVersion()
}
