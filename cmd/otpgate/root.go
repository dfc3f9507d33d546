// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 OTPGate Contributors

package main

import (
	"github.com/spf13/cobra"
)

// Global flags available to all subcommands.
var configFile string

// NewRootCmd creates the root command for the OTPGate CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "otpgate",
		Short: "OTPGate - OTP-gated account lifecycle service",
		Long: `OTPGate is an account lifecycle service that gates email
verification and password resets behind short-lived one-time passcodes.`,
	}

	// Global flag for config file path
	cmd.PersistentFlags().StringVar(&configFile, "config", "", "config file path")

	// Add subcommands
	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())

	return cmd
}
