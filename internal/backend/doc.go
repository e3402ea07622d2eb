// Package backend defines the capability contract that all compute backends
// (Azure Batch, AKS) implement, along with the error taxonomy and native
// state vocabulary exchanged between the task lifecycle manager and backend
// implementations.
package backend
