// Package domain defines the core business types of the order processing service.
// It contains the primary domain models, such as Order, Event and StressResult,
// as well as the repository interfaces that define the contracts for data persistence.
//
// This package serves as the central point for application-wide types and business rules,
// keeping the service logic independent of the database, the HTTP layer and the CLI.
// By defining interfaces for repositories, the domain package remains independent of
// the data storage technology.
package domain
