// Package eth holds the small amount of Ethereum plumbing the wallet needs:
// product id hashing, personal-sign recovery and the kernel smart account ABI
// used to read and write the interaction delegation.
package eth
