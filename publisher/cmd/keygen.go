package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kivyx/ota/shared/ota/sign"
	"github.com/kivyx/ota/util"
)

var keygenOut string

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "create a P-256 signing key and print the public key devices must trust",
	RunE: func(cmd *cobra.Command, args []string) error {
		if keygenOut == "" {
			return errors.New("--out is required")
		}
		if util.FileExists(keygenOut) {
			return fmt.Errorf("%s already exists", keygenOut)
		}

		key, err := sign.GenerateKey()
		if err != nil {
			return fmt.Errorf("generate key: %w", err)
		}
		encoded, err := sign.MarshalPrivateKeyPEM(key)
		if err != nil {
			return fmt.Errorf("encode key: %w", err)
		}
		if err := util.WriteBytes(cmd.Context(), keygenOut, encoded); err != nil {
			return fmt.Errorf("write key: %w", err)
		}

		pub, err := sign.RawPublicKeyHex(&key.PublicKey)
		if err != nil {
			return err
		}
		cmd.Println(pub)
		return nil
	},
}

func init() {
	keygenCmd.Flags().StringVar(&keygenOut, "out", "", "private key file to create")
}
