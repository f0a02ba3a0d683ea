package cmd

import (
	"encoding/base64"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/nexusbank/gateway/internal/ebicscrypto"
)

// NewKeysCommand creates the keys command group: standalone export/import of
// a subscriber's EBICS key material to a passphrase-protected backup file,
// independent of any running gateway instance.
func NewKeysCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "EBICS subscriber key backup operations",
		Long:  `Generate, export, and import EBICS subscriber key material as a passphrase-protected backup file.`,
	}

	cmd.AddCommand(newGenerateKeyCommand())
	cmd.AddCommand(newExportKeyCommand())
	cmd.AddCommand(newImportKeyCommand())

	return cmd
}

func newGenerateKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate a fresh RSA key and write it as a passphrase-protected backup file",
		RunE:  runGenerateKey,
	}
	cmd.Flags().Int("bits", 2048, "RSA modulus size in bits")
	cmd.Flags().String("passphrase", "", "Passphrase protecting the backup file")
	cmd.Flags().String("out", "", "Output backup file path")
	cmd.MarkFlagRequired("passphrase")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runGenerateKey(cmd *cobra.Command, _ []string) error {
	bits, _ := cmd.Flags().GetInt("bits")
	passphrase, _ := cmd.Flags().GetString("passphrase")
	out, _ := cmd.Flags().GetString("out")

	priv, err := ebicscrypto.GenerateRSA(bits)
	if err != nil {
		return fmt.Errorf("generate key: %w", err)
	}
	blob, err := ebicscrypto.WrapPrivateKey(priv, passphrase)
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}
	if err := os.WriteFile(out, blob, 0o600); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	fmt.Printf("wrote %d-bit key backup to %s\n", bits, out)
	return nil
}

func newExportKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Re-encrypt an existing backup file under a new passphrase",
		RunE:  runExportKey,
	}
	cmd.Flags().String("in", "", "Input backup file path")
	cmd.Flags().String("old-passphrase", "", "Current passphrase")
	cmd.Flags().String("new-passphrase", "", "New passphrase")
	cmd.Flags().String("out", "", "Output backup file path")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("old-passphrase")
	cmd.MarkFlagRequired("new-passphrase")
	cmd.MarkFlagRequired("out")
	return cmd
}

func runExportKey(cmd *cobra.Command, _ []string) error {
	in, _ := cmd.Flags().GetString("in")
	oldPass, _ := cmd.Flags().GetString("old-passphrase")
	newPass, _ := cmd.Flags().GetString("new-passphrase")
	out, _ := cmd.Flags().GetString("out")

	blob, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}
	priv, err := ebicscrypto.UnwrapPrivateKey(blob, oldPass)
	if err != nil {
		return fmt.Errorf("unwrap key: %w", err)
	}
	newBlob, err := ebicscrypto.WrapPrivateKey(priv, newPass)
	if err != nil {
		return fmt.Errorf("wrap key: %w", err)
	}
	if err := os.WriteFile(out, newBlob, 0o600); err != nil {
		return fmt.Errorf("write backup file: %w", err)
	}
	fmt.Printf("re-encrypted backup written to %s\n", out)
	return nil
}

func newImportKeyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import",
		Short: "Decrypt a backup file and print the key fingerprint",
		RunE:  runImportKey,
	}
	cmd.Flags().String("in", "", "Input backup file path")
	cmd.Flags().String("passphrase", "", "Passphrase protecting the backup file")
	cmd.MarkFlagRequired("in")
	cmd.MarkFlagRequired("passphrase")
	return cmd
}

func runImportKey(cmd *cobra.Command, _ []string) error {
	in, _ := cmd.Flags().GetString("in")
	passphrase, _ := cmd.Flags().GetString("passphrase")

	blob, err := os.ReadFile(in)
	if err != nil {
		return fmt.Errorf("read backup file: %w", err)
	}
	priv, err := ebicscrypto.UnwrapPrivateKey(blob, passphrase)
	if err != nil {
		return fmt.Errorf("unwrap key: %w", err)
	}
	fingerprint := ebicscrypto.EBICSKeyFingerprint(&priv.PublicKey)
	fmt.Printf("key imported successfully, %d bits, fingerprint %s\n",
		priv.N.BitLen(), base64.StdEncoding.EncodeToString(fingerprint[:]))
	return nil
}
