// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Rasul Khiriev

package config

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

// NetAddress holds structured network address data for host and port.
// It implements the flag.Value interface.
type NetAddress struct {
	Host string
	Port int
}

// ParseFlags parses command-line overrides from args.
//
// Flags:
//
//	-a status API address in format [host]:[port]
//	-d local database DSN
//	-remote backend base URL
//	-realtime change-feed base URL
//	-token bearer token
//	-user user id
//	-request-timeout request timeout (e.g. "30s")
//	-strategy initial strategy preset
//	-strategy-catalog YAML strategy catalog path
//	-c/-config json file path with configs
//	-log-file log file path
func ParseFlags(args []string) (*StructuredConfig, error) {
	var (
		serverAddress   NetAddress
		dsn             string
		remoteAddress   string
		realtimeAddress string
		token           string
		userID          string
		requestTimeout  time.Duration
		strategy        string
		catalog         string
		jsonConfigPath  string
		logFile         string
	)

	fs := flag.NewFlagSet("syncd", flag.ContinueOnError)
	fs.Var(&serverAddress, "a", "Status API address host:port")
	fs.StringVar(&dsn, "d", "", "Local database DSN")
	fs.StringVar(&remoteAddress, "remote", "", "Backend base URL")
	fs.StringVar(&realtimeAddress, "realtime", "", "Change feed base URL")
	fs.StringVar(&token, "token", "", "Bearer token")
	fs.StringVar(&userID, "user", "", "User id")
	fs.DurationVar(&requestTimeout, "request-timeout", 0, "Request timeout (e.g., 30s, 1m)")
	fs.StringVar(&strategy, "strategy", "", "Initial strategy preset")
	fs.StringVar(&catalog, "strategy-catalog", "", "YAML strategy catalog path")
	fs.StringVar(&jsonConfigPath, "c", "", "JSON config file path")
	fs.StringVar(&jsonConfigPath, "config", "", "JSON config file path (alias)")
	fs.StringVar(&logFile, "log-file", "", "Log file path")

	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("error parsing flags: %w", err)
	}

	return &StructuredConfig{
		App: App{
			UserID:  userID,
			LogFile: logFile,
		},
		Storage: Storage{DSN: dsn},
		Remote: Remote{
			HTTPAddress:     remoteAddress,
			RealtimeAddress: realtimeAddress,
			Token:           token,
			RequestTimeout:  requestTimeout,
		},
		Strategy: Strategy{
			Initial:     strategy,
			CatalogFile: catalog,
		},
		Server:       Server{HTTPAddress: serverAddress.String()},
		JSONFilePath: jsonConfigPath,
	}, nil
}

// String returns a canonical host:port string for a NetAddress, or "" when
// neither part is set.
func (a *NetAddress) String() string {
	if a.Host == "" && a.Port == 0 {
		return ""
	}

	return a.Host + ":" + strconv.Itoa(a.Port)
}

// Set parses the input string of form host:port and populates the NetAddress.
// The port must be positive; the host must be "localhost", empty or an IP.
func (a *NetAddress) Set(s string) error {
	host, portStr, err := net.SplitHostPort(strings.TrimSpace(s))
	if err != nil {
		return errors.New("need address in a form `host:port`")
	}

	port, err := strconv.Atoi(portStr)
	if err != nil {
		return err
	}
	if port < 1 {
		return errors.New("port number is a positive integer")
	}

	if host != "" && host != "localhost" && net.ParseIP(host) == nil {
		return errors.New("incorrect IP-address provided")
	}

	a.Host = host
	a.Port = port
	return nil
}
