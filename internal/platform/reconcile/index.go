package reconcile

import (
	"github.com/renlav/payledger/internal/platform/payment"
)

// recordIndex maps ledger identifiers of all live non-failed records and all
// non-failed archived payments. Keys are hex-encoded TXO public keys and key
// images as reported by the ledger.
type recordIndex struct {
	byIncomingKey map[string][]*payment.PaymentRecord
	byKeyImage    map[string][]*payment.PaymentRecord
	byOutputKey   map[string][]*payment.PaymentRecord
	byBlock       map[uint64][]*payment.PaymentRecord

	archivedByKeyImage    map[string]*payment.ArchivedPayment
	archivedByIncomingKey map[string]*payment.ArchivedPayment
	archivedByOutputKey   map[string]*payment.ArchivedPayment
}

func buildIndex(records []*payment.PaymentRecord, archived []*payment.ArchivedPayment) *recordIndex {
	idx := &recordIndex{
		byIncomingKey:         make(map[string][]*payment.PaymentRecord),
		byKeyImage:            make(map[string][]*payment.PaymentRecord),
		byOutputKey:           make(map[string][]*payment.PaymentRecord),
		byBlock:               make(map[uint64][]*payment.PaymentRecord),
		archivedByKeyImage:    make(map[string]*payment.ArchivedPayment),
		archivedByIncomingKey: make(map[string]*payment.ArchivedPayment),
		archivedByOutputKey:   make(map[string]*payment.ArchivedPayment),
	}
	for _, rec := range records {
		idx.add(rec)
	}
	for _, arch := range archived {
		if arch.Failed {
			continue
		}
		for _, key := range arch.SpentKeyImages {
			idx.archivedByKeyImage[key] = arch
		}
		for _, key := range arch.IncomingTxoPublicKeys {
			idx.archivedByIncomingKey[key] = arch
		}
		for _, key := range arch.OutputPublicKeys {
			idx.archivedByOutputKey[key] = arch
		}
	}
	return idx
}

func (idx *recordIndex) add(rec *payment.PaymentRecord) {
	for _, key := range rec.Ledger.IncomingTxoPublicKeys {
		idx.byIncomingKey[key] = append(idx.byIncomingKey[key], rec)
	}
	for _, key := range rec.Ledger.SpentKeyImages {
		idx.byKeyImage[key] = append(idx.byKeyImage[key], rec)
	}
	for _, key := range rec.Ledger.OutputPublicKeys {
		idx.byOutputKey[key] = append(idx.byOutputKey[key], rec)
	}
	if rec.Ledger.BlockIndex != nil {
		idx.byBlock[*rec.Ledger.BlockIndex] = append(idx.byBlock[*rec.Ledger.BlockIndex], rec)
	}
}

// ownsKeyImage reports whether a live record already accounts for the spend.
func (idx *recordIndex) ownsKeyImage(keyImage string) bool {
	return len(idx.byKeyImage[keyImage]) > 0
}

// ownsIncomingKey reports whether a live record already accounts for the
// received TXO.
func (idx *recordIndex) ownsIncomingKey(txoPublicKey string) bool {
	return len(idx.byIncomingKey[txoPublicKey]) > 0
}

// isChangeOutput reports whether the TXO is an output of a known outgoing
// record: change returned to the account by a transaction we already track.
func (idx *recordIndex) isChangeOutput(txoPublicKey string) bool {
	for _, rec := range idx.byOutputKey[txoPublicKey] {
		if !rec.Type.IsIncoming() && !rec.Type.IsUnidentified() {
			return true
		}
	}
	return false
}

func (idx *recordIndex) archivedForSpent(keyImage string) *payment.ArchivedPayment {
	return idx.archivedByKeyImage[keyImage]
}

func (idx *recordIndex) archivedForReceived(txoPublicKey string) *payment.ArchivedPayment {
	if arch, ok := idx.archivedByIncomingKey[txoPublicKey]; ok {
		return arch
	}
	return idx.archivedByOutputKey[txoPublicKey]
}

func (idx *recordIndex) recordsAt(blockIndex uint64) []*payment.PaymentRecord {
	return idx.byBlock[blockIndex]
}
