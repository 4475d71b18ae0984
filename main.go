package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"

	"github.com/ebfe/scard"
	"github.com/soltia48/felica-dumper/pkg/dump"
	"github.com/soltia48/felica-dumper/pkg/felica"
	"github.com/soltia48/felica-dumper/pkg/keytab"
)

func main() {
	keysPath := flag.String("keys", "keys.csv", "path to the key table CSV")
	flag.Parse()

	// --- 1. Hardware Setup ---
	scardCtx, card := connectToCard()

	defer func() {
		if err := scardCtx.Release(); err != nil {
			log.Printf("Warning: Failed to release context: %v", err)
		}
	}()

	defer func() {
		if err := card.Disconnect(scard.LeaveCard); err != nil {
			log.Printf("Warning: Failed to disconnect card: %v", err)
		}
	}()

	// --- 2. Logic Setup ---
	client := felica.NewClient(felica.NewPCSCTransport(card))
	keys := loadKeys(*keysPath)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	// --- 3. Execution Flow ---

	// Step 1: Enumerate the logical systems on the card
	systems, err := step1EnumerateSystems(client)
	if err != nil {
		log.Fatalf("Step 1 failed: %v", err)
	}

	// Step 2 + 3: Per system, discover the service structure and extract it.
	// A broken system never aborts the remaining ones.
	for _, system := range systems {
		tree, err := step2DiscoverSystem(ctx, client, system)
		if err != nil {
			log.Printf("(!) System %s discovery failed: %v", system, err)
			continue
		}

		if err := step3ExtractServices(ctx, client, keys, tree); err != nil {
			log.Printf("(!) System %s extraction aborted: %v", system, err)
			break
		}
	}

	fmt.Println("\n>> Dump Finished")
}

// =========================================================================
// Helper Functions
// =========================================================================

// connectToCard handles the PC/SC context establishment and reader connection.
func connectToCard() (*scard.Context, *scard.Card) {
	ctx, err := scard.EstablishContext()
	if err != nil {
		log.Fatalf("Error establishing context: %s", err)
	}

	readers, err := ctx.ListReaders()
	if err != nil || len(readers) == 0 {
		if relErr := ctx.Release(); relErr != nil {
			log.Printf("Warning: Failed to release context during error handling: %v", relErr)
		}
		log.Fatal("No smart card reader found.")
	}

	fmt.Printf(">> Using reader: %s\n", readers[0])

	card, err := ctx.Connect(readers[0], scard.ShareShared, scard.ProtocolAny)
	if err != nil {
		if relErr := ctx.Release(); relErr != nil {
			log.Printf("Warning: Failed to release context during error handling: %v", relErr)
		}
		log.Fatalf("Error connecting to card: %s", err)
	}

	return ctx, card
}

// loadKeys reads the key table, tolerating a missing file: without keys the
// dump still covers every openly readable service.
func loadKeys(path string) *keytab.Table {
	f, err := os.Open(path)
	if err != nil {
		log.Printf("Warning: key table %s not readable (%v); continuing without keys", path, err)
		return keytab.New()
	}
	defer f.Close()

	table, err := keytab.Load(f)
	if err != nil {
		log.Fatalf("Error loading key table %s: %v", path, err)
	}

	fmt.Printf(">> Loaded %d keys from %s\n", table.Len(), path)
	return table
}

// step1EnumerateSystems polls the wildcard system and lists every system
// code the card carries.
func step1EnumerateSystems(client *felica.Client) ([]felica.SystemCode, error) {
	fmt.Println("\n=============================================")
	fmt.Println(" Step 1: POLLING + SYSTEM ENUMERATION")
	fmt.Println("=============================================")

	idm, pmm, err := client.Polling(felica.SystemCodeAny)
	if errors.Is(err, felica.ErrNoCard) {
		return nil, fmt.Errorf("no FeliCa card on the reader")
	}
	if err != nil {
		return nil, fmt.Errorf("polling failed: %w", err)
	}

	fmt.Printf(">> Card found | IDm: %s | PMm: %s\n", idm, pmm)

	systems, err := client.RequestSystemCodes()
	if err != nil {
		return nil, fmt.Errorf("system enumeration failed: %w", err)
	}

	for i, system := range systems {
		fmt.Printf("   [%d] System %s\n", i, system)
	}
	return systems, nil
}

// step2DiscoverSystem selects one system and walks its full node list.
func step2DiscoverSystem(ctx context.Context, client *felica.Client, system felica.SystemCode) (*felica.ServiceTree, error) {
	fmt.Println("\n=============================================")
	fmt.Printf(" Step 2: DISCOVERING SYSTEM %s\n", system)
	fmt.Println("=============================================")

	// Polling the system code selects it for the following commands.
	idm, pmm, err := client.Polling(system)
	if err != nil {
		return nil, fmt.Errorf("system selection failed: %w", err)
	}

	tree, err := dump.NewWalker(client).Discover(ctx, system, idm, pmm)
	if err != nil {
		return nil, err
	}

	fmt.Println(tree.Describe())
	printKeyVersions(client, tree)
	return tree, nil
}

// printKeyVersions queries the card's key versions for every discovered
// service, batching to the protocol limit.
func printKeyVersions(client *felica.Client, tree *felica.ServiceTree) {
	var nodes []felica.NodeCode
	for _, svc := range tree.Services() {
		nodes = append(nodes, svc.Code)
	}
	if len(nodes) == 0 {
		return
	}

	fmt.Println("\n   Key versions:")
	for len(nodes) > 0 {
		batch := nodes
		if len(batch) > felica.MaxServicesPerRequest {
			batch = batch[:felica.MaxServicesPerRequest]
		}
		nodes = nodes[len(batch):]

		versions, err := client.RequestService(batch)
		if err != nil {
			log.Printf("(!) Key version query failed: %v", err)
			return
		}
		for i, v := range versions {
			if v == felica.NoKeyVersion {
				fmt.Printf("   Service %s: no key\n", batch[i])
				continue
			}
			fmt.Printf("   Service %s: key version %04X\n", batch[i], v)
		}
	}
}

// step3ExtractServices runs the extraction pass over one discovered system
// and reports the per-service outcome.
func step3ExtractServices(ctx context.Context, client *felica.Client, keys *keytab.Table, tree *felica.ServiceTree) error {
	fmt.Println("\n=============================================")
	fmt.Printf(" Step 3: EXTRACTING SYSTEM %s (%d services, %d keys)\n",
		tree.System, len(tree.Services()), keys.CountForSystem(tree.System))
	fmt.Println("=============================================")

	processor := dump.NewProcessor(client, keys)
	results, err := processor.ProcessTree(ctx, tree)

	counts := make(map[dump.Status]int)
	blocks := 0
	for _, r := range results {
		fmt.Println()
		fmt.Println(r.Describe())
		counts[r.Status]++
		blocks += len(r.Blocks)
	}

	fmt.Printf("\n>> System %s summary: %d services, %d blocks read", tree.System, len(results), blocks)
	for status, n := range counts {
		fmt.Printf(" | %s: %d", status, n)
	}
	fmt.Println()

	return err
}
