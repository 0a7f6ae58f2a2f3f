// SPDX-License-Identifier: MPL-2.0
// SPDX-FileCopyrightText: Copyright (c) 2024, Emir Aganovic

package webphone

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// SessionConfig identifies one registration target. It is passed verbatim to
// Initialize and retained until Destroy or next Initialize.
type SessionConfig struct {
	WSServer    string `mapstructure:"ws_server"`
	WSPort      int    `mapstructure:"ws_port"`
	WSPath      string `mapstructure:"ws_path"`
	Secure      bool   `mapstructure:"secure"`
	Server      string `mapstructure:"server"`
	Username    string `mapstructure:"username"`
	Password    string `mapstructure:"password"`
	DisplayName string `mapstructure:"display_name"`
}

// Validate checks config before any network I/O. Empty WSPath becomes "/".
func (c *SessionConfig) Validate() error {
	if strings.TrimSpace(c.WSServer) == "" {
		return &ConfigError{Field: "ws_server", Reason: "required"}
	}
	if c.WSPort < 1 || c.WSPort > 65535 {
		return &ConfigError{Field: "ws_port", Reason: "must be in range 1-65535"}
	}
	if c.WSPath == "" {
		c.WSPath = "/"
	}
	if !strings.HasPrefix(c.WSPath, "/") {
		return &ConfigError{Field: "ws_path", Reason: "must start with /"}
	}
	if strings.TrimSpace(c.Server) == "" {
		return &ConfigError{Field: "server", Reason: "required"}
	}
	if strings.TrimSpace(c.Username) == "" {
		return &ConfigError{Field: "username", Reason: "required"}
	}
	if strings.ContainsAny(c.Username, "@: ") {
		return &ConfigError{Field: "username", Reason: "must be user part only"}
	}
	return nil
}

// Transport returns sip transport name used for websocket connection
func (c SessionConfig) Transport() string {
	if c.secure() {
		return "wss"
	}
	return "ws"
}

func (c SessionConfig) secure() bool {
	return c.Secure || c.WSPort == 443
}

func (c SessionConfig) WebSocketURL() string {
	path := c.WSPath
	if path == "" {
		path = "/"
	}
	u := url.URL{
		Scheme: c.Transport(),
		Host:   c.WSServer + ":" + strconv.Itoa(c.WSPort),
		Path:   path,
	}
	return u.String()
}

// AOR is address of record we register, ex sip:alice@pbx.example.com
func (c SessionConfig) AOR() string {
	return fmt.Sprintf("sip:%s@%s", c.Username, c.Server)
}

// TargetURI builds outbound call address sip:<number>@<server>
func (c SessionConfig) TargetURI(number string) string {
	return fmt.Sprintf("sip:%s@%s", number, c.Server)
}
