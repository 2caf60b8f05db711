// Package extension infers a file extension for a captured response.
//
// Resolution order:
//   - The last dotted token of the URL's final path segment
//   - The first conventional extension of the declared content type
//   - The fallback "txt"
//
// Extensions are returned without a leading dot. Resolution never fails;
// anything that cannot be inferred ends in the fallback.
package extension
