/*
Package felica implements data structures and logic to interact with FeliCa
Standard cards according to JIS X 6319-4.

This package provides the fundamental building blocks for FeliCa frame
communication, including Command and Response packets, status flag analysis,
node code classification (areas and services), and a protocol Client that
drives one polled card over an abstract Transmitter.

# Fundamentals

The communication with a FeliCa card is strictly synchronous and half-duplex:
 1. The Host sends a Command packet (Length + Command Code + Payload).
 2. The Card processes it and returns a Response packet (Length + Response
    Code + Payload). The response code is always the command code plus one.

After the initial Polling command, every command carries the 8-byte card
manufacture identifier (IDm) as the first payload field, and the card echoes
it back in the response.

# Status Flags

Commands that operate on blocks (Read Without Encryption, Read) return two
status bytes:
  - Status Flag 1 0x00: Success.
  - Status Flag 1 0xFF: Error not tied to a specific block list element.
  - Other:             1-origin index of the block list element that failed;
    Status Flag 2 then carries the error code (e.g. 0xA8
    "block number out of range").

# Node Codes

The logical structure of a system is a flat, ordered list of nodes. A node
code is a 16-bit value: the upper 10 bits are the node number, the lower
6 bits the attribute. Areas group a contiguous node number range; services
are leaves holding 16-byte blocks. The least significant attribute bit of a
service decides whether it can be read without authentication.

# Usage Example: Walking a Card

	client := felica.NewClient(transport)
	if _, _, err := client.Polling(felica.SystemCodeAny); err != nil {
	    log.Fatal(err)
	}

	for index := uint16(0); ; index++ {
	    node, ok, err := client.SearchServiceCode(index)
	    if err != nil {
	        log.Fatal(err)
	    }
	    if !ok {
	        break // end of node list
	    }
	    fmt.Println(node.Verbose())
	}
*/
package felica
