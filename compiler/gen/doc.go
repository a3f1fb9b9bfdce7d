// Package gen maps loaded documents to IR groups.
//
// MapABI turns a contract ABI into one unit per event and function, plus
// parameter units and one unit per tuple parameter at any nesting depth.
// Overloaded names are suffixed with the first four bytes of the keccak
// hash of the signature:
//
//	transfer(address,uint256) -> Transfer_a9059cbb
//
// MapSchema turns every @entity type of a GraphQL schema into an entity
// unit. Fields declared with @derivedFrom become read-only members resolved
// by reverse lookup.
//
// MapTemplates turns the templates of a data source into factory units.
//
// Mappers first declare all units, then link references by name, so deep
// tuple nesting does not recurse.
package gen
