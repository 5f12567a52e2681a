// Package harvest defines the core types and interfaces shared by the rating
// extraction pipeline: work items, extraction results, the Extractor
// collaborator boundary, the durable ResultStore contract, and the error
// taxonomy used to drive retry decisions.
package harvest
