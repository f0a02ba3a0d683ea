package iso20022

import (
	"fmt"

	"github.com/nexusbank/gateway/internal/xmlutil"
)

func parseXML(doc []byte) (*xmlutil.Node, error) {
	root, err := xmlutil.Parse(doc)
	if err != nil {
		return nil, fmt.Errorf("parse pain.001 document: %w", err)
	}
	if err := xmlutil.RequireRoot(root, "Document"); err != nil {
		return nil, fmt.Errorf("pain.001 document: %w", err)
	}
	return root, nil
}

func extractPain001(root *xmlutil.Node) (PaymentRequest, error) {
	var out PaymentRequest

	body, err := xmlutil.RequireUniqueChild(root, "CstmrCdtTrfInitn")
	if err != nil {
		return out, fmt.Errorf("pain.001: %w", err)
	}

	grpHdr, err := xmlutil.RequireUniqueChild(body, "GrpHdr")
	if err != nil {
		return out, fmt.Errorf("pain.001: %w", err)
	}
	if msgID, err := xmlutil.RequireUniqueChild(grpHdr, "MsgId"); err == nil {
		out.MsgID = msgID.TrimmedText()
	}
	if creDtTm, err := xmlutil.RequireUniqueChild(grpHdr, "CreDtTm"); err == nil {
		out.CreationDateTime = creDtTm.TrimmedText()
	}

	pmtInf, err := xmlutil.RequireUniqueChild(body, "PmtInf")
	if err != nil {
		return out, fmt.Errorf("pain.001: %w", err)
	}
	if id, err := xmlutil.RequireUniqueChild(pmtInf, "PmtInfId"); err == nil {
		out.PaymentInfoID = id.TrimmedText()
	}
	if dt, err := xmlutil.RequireUniqueChild(pmtInf, "ReqdExctnDt"); err == nil {
		out.RequestedExecDate = dt.TrimmedText()
	}
	if dbtr, err := xmlutil.RequireUniqueChild(pmtInf, "Dbtr"); err == nil {
		if nm, err := xmlutil.RequireUniqueChild(dbtr, "Nm"); err == nil {
			out.DebtorName = nm.TrimmedText()
		}
	}
	if dbtrAcct, err := xmlutil.RequireUniqueChild(pmtInf, "DbtrAcct"); err == nil {
		if id, err := xmlutil.RequireUniqueChild(dbtrAcct, "Id"); err == nil {
			if iban, err := xmlutil.RequireUniqueChild(id, "IBAN"); err == nil {
				out.DebtorIBAN = iban.TrimmedText()
			}
		}
	}
	if dbtrAgt, err := xmlutil.RequireUniqueChild(pmtInf, "DbtrAgt"); err == nil {
		if bic := xmlutil.FindFirst(dbtrAgt, "BICFI"); bic != nil {
			out.DebtorBIC = bic.TrimmedText()
		}
	}

	tx, err := xmlutil.RequireUniqueChild(pmtInf, "CdtTrfTxInf")
	if err != nil {
		return out, fmt.Errorf("pain.001: %w", err)
	}
	if pmtID, err := xmlutil.RequireUniqueChild(tx, "PmtId"); err == nil {
		if e2e, err := xmlutil.RequireUniqueChild(pmtID, "EndToEndId"); err == nil {
			out.EndToEndID = e2e.TrimmedText()
		}
	}
	if amt, err := xmlutil.RequireUniqueChild(tx, "Amt"); err == nil {
		if instd, err := xmlutil.RequireUniqueChild(amt, "InstdAmt"); err == nil {
			out.Amount = instd.TrimmedText()
			out.Currency = instd.Attr("Ccy")
		}
	}
	if cdtrAgt, err := xmlutil.RequireUniqueChild(tx, "CdtrAgt"); err == nil {
		if bic := xmlutil.FindFirst(cdtrAgt, "BICFI"); bic != nil {
			out.CreditorBIC = bic.TrimmedText()
		}
	}
	if cdtr, err := xmlutil.RequireUniqueChild(tx, "Cdtr"); err == nil {
		if nm, err := xmlutil.RequireUniqueChild(cdtr, "Nm"); err == nil {
			out.CreditorName = nm.TrimmedText()
		}
	}
	if cdtrAcct, err := xmlutil.RequireUniqueChild(tx, "CdtrAcct"); err == nil {
		if id, err := xmlutil.RequireUniqueChild(cdtrAcct, "Id"); err == nil {
			if iban, err := xmlutil.RequireUniqueChild(id, "IBAN"); err == nil {
				out.CreditorIBAN = iban.TrimmedText()
			}
		}
	}
	if rmtInf, err := xmlutil.RequireUniqueChild(tx, "RmtInf"); err == nil {
		if ustrd, err := xmlutil.RequireUniqueChild(rmtInf, "Ustrd"); err == nil {
			out.RemittanceSubject = ustrd.TrimmedText()
		}
	}

	return out, nil
}
