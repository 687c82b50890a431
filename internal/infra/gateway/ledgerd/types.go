package ledgerd

import (
	"fmt"
	"time"

	"github.com/renlav/payledger/internal/platform/ledger"
	"github.com/renlav/payledger/pkg/money"
)

// Wire types for the ledger daemon's JSON API. Binary fields are base64;
// amounts are base-10 picoMOB strings.

type blockJSON struct {
	Index     uint64     `json:"index"`
	Timestamp *time.Time `json:"timestamp,omitempty"`
}

func (b *blockJSON) toBlock() ledger.Block {
	if b == nil {
		return ledger.Block{}
	}
	return ledger.Block{Index: b.Index, Timestamp: b.Timestamp}
}

type activityItemJSON struct {
	Amount        string     `json:"amount"`
	TxoPublicKey  string     `json:"txo_public_key"`
	KeyImage      string     `json:"key_image"`
	ReceivedBlock blockJSON  `json:"received_block"`
	SpentBlock    *blockJSON `json:"spent_block,omitempty"`
}

type activityResponse struct {
	Items      []activityItemJSON `json:"items"`
	BlockCount uint64             `json:"block_count"`
}

func (r *activityResponse) toActivity() (*ledger.AccountActivity, error) {
	activity := &ledger.AccountActivity{
		Items:      make([]ledger.ActivityItem, 0, len(r.Items)),
		BlockCount: r.BlockCount,
	}
	for _, item := range r.Items {
		amount, err := money.ParseAmount(item.Amount)
		if err != nil {
			return nil, fmt.Errorf("invalid activity amount: %w", err)
		}
		out := ledger.ActivityItem{
			Amount:        amount,
			TxoPublicKey:  item.TxoPublicKey,
			KeyImage:      item.KeyImage,
			ReceivedBlock: item.ReceivedBlock.toBlock(),
		}
		if item.SpentBlock != nil {
			spent := item.SpentBlock.toBlock()
			out.SpentBlock = &spent
		}
		activity.Items = append(activity.Items, out)
	}
	return activity, nil
}

type submitRequest struct {
	Transaction []byte `json:"transaction"`
}

type statusRequest struct {
	Transaction []byte `json:"transaction,omitempty"`
	Receipt     []byte `json:"receipt,omitempty"`
}

type statusResponse struct {
	Status string     `json:"status"`
	Block  *blockJSON `json:"block,omitempty"`
	Amount string     `json:"amount,omitempty"`
}

type balanceResponse struct {
	Spendable string `json:"spendable"`
}

type errorResponse struct {
	Error string `json:"error"`
}
