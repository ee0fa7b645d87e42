// Package xbox implements the two Xbox Live federation hops: user
// authentication with a Microsoft access token (XBL) and authorization for a
// relying party through the Xbox Secure Token Service (XSTS).
package xbox
