package main

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cuemby/fabric/pkg/security"
)

var secretPassword string

var secretCmd = &cobra.Command{
	Use:   "secret",
	Short: "Encrypt values with a password-derived key for local storage",
}

var secretEncryptCmd = &cobra.Command{
	Use:   "encrypt <name> <file>",
	Short: "Encrypt a file's contents and print the ciphertext, base64-encoded",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		if secretPassword == "" {
			return fmt.Errorf("--password is required")
		}
		plaintext, err := os.ReadFile(args[1])
		if err != nil {
			return err
		}
		sm, err := security.NewSecretsManagerFromPassword(secretPassword)
		if err != nil {
			return err
		}
		secret, err := sm.CreateSecret(args[0], plaintext)
		if err != nil {
			return err
		}
		fmt.Println(base64.StdEncoding.EncodeToString(secret.Data))
		return nil
	},
}

func init() {
	secretCmd.PersistentFlags().StringVar(&secretPassword, "password", "", "password the secret's encryption key is derived from")
	secretCmd.AddCommand(secretEncryptCmd)
}
