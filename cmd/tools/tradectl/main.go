// tradectl talks to a running trader over its admin socket: kill-switch
// status, manual trip, audited operator reset and on-demand reconcile.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"

	"main/internal/ops"
)

func main() {
	socket := flag.String("socket", "/tmp/trader-admin.sock", "Trader admin socket path")
	cmd := flag.String("cmd", "status", "Command: status|trip|reset|reconcile")
	reason := flag.String("reason", "", "Audit reason for trip/reset")
	operator := flag.String("operator", "", "Operator on record for reset")
	flag.Parse()

	request := map[string]string{"cmd": *cmd}
	if *reason != "" {
		request["reason"] = *reason
	}
	if *operator != "" {
		request["operator"] = *operator
	}

	response, err := ops.AdminCall(*socket, request)
	if err != nil {
		log.Fatalf("admin call failed: %v", err)
	}

	out, err := json.Marshal(response)
	if err != nil {
		log.Fatalf("marshal response failed: %v", err)
	}
	fmt.Println(string(out))
	if !response.OK {
		os.Exit(1)
	}
}
