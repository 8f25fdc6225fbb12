package graphql

import (
	"strconv"
	"time"

	"github.com/0xmhha/hellostorage-go/contract"
	"github.com/0xmhha/hellostorage-go/service"
)

func formatUint(v uint64) string {
	return strconv.FormatUint(v, 10)
}

func valueToMap(v *service.ValueView) map[string]interface{} {
	return map[string]interface{}{
		"contract": v.Contract.Hex(),
		"message":  v.Message,
		"readAt":   v.ReadAt.UTC().Format(time.RFC3339),
		"stale":    v.Stale,
	}
}

func historyToMap(v *service.HistoryView) map[string]interface{} {
	entries := make([]interface{}, len(v.Entries))
	for i, e := range v.Entries {
		entries[i] = map[string]interface{}{
			"sender":      e.Sender.Hex(),
			"oldValue":    e.OldValue,
			"newValue":    e.NewValue,
			"timestamp":   strconv.FormatInt(e.Timestamp, 10),
			"time":        e.Time,
			"txHash":      e.TxHash.Hex(),
			"blockNumber": formatUint(e.BlockNumber),
			"logIndex":    int(e.LogIndex),
			"explorerUrl": e.ExplorerURL,
		}
	}

	result := map[string]interface{}{
		"contract":  v.Contract.Hex(),
		"entries":   entries,
		"complete":  v.Complete,
		"origin":    formatUint(v.Origin),
		"target":    formatUint(v.Target),
		"cached":    v.Cached,
		"fetchedAt": v.FetchedAt.UTC().Format(time.RFC3339),
	}
	if v.Notice != "" {
		result["notice"] = v.Notice
	}
	return result
}

func confirmationToMap(c *contract.Confirmation, explorerURL string) map[string]interface{} {
	result := map[string]interface{}{
		"txHash":      c.TxHash.Hex(),
		"blockNumber": formatUint(c.BlockNumber),
		"status":      int(c.Status),
		"gasUsed":     formatUint(c.GasUsed),
	}
	if explorerURL != "" {
		result["explorerUrl"] = explorerURL
	}
	return result
}
