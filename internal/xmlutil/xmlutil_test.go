package xmlutil

import (
	"encoding/base64"
	"testing"

	"github.com/nexusbank/gateway/internal/ebicscrypto"
	"github.com/stretchr/testify/require"
)

func TestParseAndDestructure(t *testing.T) {
	t.Parallel()

	doc := []byte(`<Document><Rpt><Acct><Id><IBAN>DE1234</IBAN></Id></Acct><Ntry>1</Ntry><Ntry>2</Ntry></Rpt></Document>`)
	root, err := Parse(doc)
	require.NoError(t, err)
	require.NoError(t, RequireRoot(root, "Document"))

	rpt, err := RequireUniqueChild(root, "Rpt")
	require.NoError(t, err)

	acct, err := RequireUniqueChild(rpt, "Acct")
	require.NoError(t, err)
	id, err := RequireUniqueChild(acct, "Id")
	require.NoError(t, err)
	iban, err := RequireUniqueChild(id, "IBAN")
	require.NoError(t, err)
	require.Equal(t, "DE1234", iban.TrimmedText())

	var entries []string
	require.NoError(t, MapEachChild(rpt, "Ntry", func(n *Node) error {
		entries = append(entries, n.TrimmedText())
		return nil
	}))
	require.Equal(t, []string{"1", "2"}, entries)

	_, err = MaybeUniqueChild(rpt, "Missing")
	require.NoError(t, err)
}

func TestRequireUniqueChildErrorsOnMultiple(t *testing.T) {
	t.Parallel()

	doc := []byte(`<Root><Child/><Child/></Root>`)
	root, err := Parse(doc)
	require.NoError(t, err)
	_, err = RequireUniqueChild(root, "Child")
	require.Error(t, err)
}

func TestCanonicalizeIsStableAcrossAttributeOrder(t *testing.T) {
	t.Parallel()

	a, err := Parse([]byte(`<Ntry Ccy="EUR" Sts="BOOK"><Amt>1.00</Amt></Ntry>`))
	require.NoError(t, err)
	b, err := Parse([]byte(`<Ntry Sts="BOOK" Ccy="EUR"><Amt>1.00</Amt></Ntry>`))
	require.NoError(t, err)

	require.Equal(t, Canonicalize(a), Canonicalize(b))
}

func TestSignAndVerifyAuthSignature(t *testing.T) {
	t.Parallel()

	priv, err := ebicscrypto.GenerateRSA(1024)
	require.NoError(t, err)

	doc := []byte(`<ebicsRequest><header><SignedInfo><Foo>bar</Foo></SignedInfo></header><SignatureValue></SignatureValue></ebicsRequest>`)
	root, err := Parse(doc)
	require.NoError(t, err)

	c14n, sig, err := SignAuthSignature(root, priv)
	require.NoError(t, err)
	require.NotEmpty(t, c14n)
	require.NotEmpty(t, sig)

	sigNode := FindFirst(root, "SignatureValue")
	require.NotNil(t, sigNode)
	sigNode.Text = base64.StdEncoding.EncodeToString(sig)

	ok, err := VerifyAuthSignature(root, &priv.PublicKey)
	require.NoError(t, err)
	require.True(t, ok)
}
